// Package suite registers the Go-defined tests of the bundled test tree.
//
// Each type customises a kapp family for one directory under suite/. The
// directory still holds a manifest; the Go type only replaces the stages
// that cannot be expressed declaratively. Import the package for its side
// effects:
//
//	import _ "github.com/roach88/kerncheck/internal/suite"
package suite

import (
	"github.com/roach88/kerncheck/internal/registry"
	"github.com/roach88/kerncheck/internal/testdef"
)

// Discovery paths of the registered tests.
const (
	CalcPath         = "kapp/sys/ys/calc/calc_mpi_openmp"
	ClubbPath        = "kapp/sys/ys/cesm/intel/adv_clubb_core"
	AllocDeallocPath = "kapp/func/ys/alloc_dealloc_opt/intel"
)

// Register adds the suite's tests to r.
func Register(r *registry.Registry) {
	r.Register(CalcPath, "Test", func() testdef.Definition { return &CalcTest{} })
	r.Register(ClubbPath, "Test", func() testdef.Definition { return &ClubbTest{} })
	r.Register(AllocDeallocPath, "CustomTest", func() testdef.Definition { return &AllocDeallocTest{} })
}

func init() {
	Register(registry.Default)
}
