// Package fingerprint computes content-addressed fingerprints of test
// definitions.
//
// A fingerprint covers the test's identity, its decoded manifest and the
// bytes of every file in its directory. Editing a source file, a Makefile
// or the manifest changes the fingerprint; reformatting a YAML manifest
// does not.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/roach88/kerncheck/internal/manifest"
)

// Domain prefixes. The version suffix allows the algorithm to change.
const (
	DomainDefinition = "kerncheck/definition/v1"
	DomainFile       = "kerncheck/file/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Input is what a definition fingerprint covers.
type Input struct {
	ID       string
	TypeName string
	Manifest *manifest.Manifest
	// Dir is hashed recursively. Subdirectories holding their own manifest
	// are separate tests and are skipped.
	Dir string
}

// Definition fingerprints a test definition.
func Definition(in Input) (string, error) {
	obj := map[string]any{
		"id":   in.ID,
		"type": in.TypeName,
	}

	if in.Manifest != nil {
		m, err := manifestValue(in.Manifest)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", in.ID, err)
		}
		obj["manifest"] = m
	}

	if in.Dir != "" {
		files, err := Files(in.Dir)
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", in.ID, err)
		}
		obj["files"] = files
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", in.ID, err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// Files hashes every regular file under dir, keyed by slash-separated
// relative path. The manifest file itself is left out; Definition covers
// its decoded content instead.
func Files(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == dir {
				return nil
			}
			if found, err := manifest.Find(p); err != nil || found != "" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || isManifest(dir, p) {
			return nil
		}
		sum, err := hashFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash files: %w", err)
	}
	return files, nil
}

func isManifest(dir, p string) bool {
	if filepath.Dir(p) != filepath.Clean(dir) {
		return false
	}
	for _, name := range manifest.FileNames {
		if filepath.Base(p) == name {
			return true
		}
	}
	return false
}

func hashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	h.Write([]byte(DomainFile))
	h.Write([]byte{0x00})
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// manifestValue converts the manifest to a generic JSON value. Numbers stay
// json.Number so they canonicalise as integers.
func manifestValue(m *manifest.Manifest) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
