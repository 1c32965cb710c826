package suite

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/roach88/kerncheck/internal/kapp"
	"github.com/roach88/kerncheck/internal/pipeline"
)

// Site settings a CESM case test must declare in its manifest vars.
var clubbVars = []string{"casedir", "casename", "srcmods"}

// ClubbTest extracts advance_clubb_core_api from a CESM case. The case
// location comes from the manifest's vars; the CAM source-mods directory is
// published by generate for later stages.
type ClubbTest struct {
	kapp.System
}

func (t *ClubbTest) Configure() error {
	if err := t.System.Configure(); err != nil {
		return err
	}
	for _, name := range clubbVars {
		if _, ok := t.Manifest.Vars[name]; !ok {
			return fmt.Errorf("manifest vars must set %s", name)
		}
	}
	return nil
}

func (t *ClubbTest) Handler(stage string) pipeline.StageFunc {
	if stage == kapp.StageGenerate {
		return t.generate
	}
	return t.System.Handler(stage)
}

func (t *ClubbTest) generate(ctx context.Context, st *pipeline.Stage) error {
	srcmods, err := st.GetString(kapp.StageConfig, "srcmods")
	if err != nil {
		return err
	}
	st.Set("camsrcmods", filepath.Join(srcmods, "src.cam"))
	return t.Stages().Generate(ctx, st)
}
