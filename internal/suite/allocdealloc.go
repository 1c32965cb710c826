package suite

import (
	"context"

	"github.com/roach88/kerncheck/internal/kapp"
	"github.com/roach88/kerncheck/internal/pipeline"
)

// AllocDeallocTest pins the Intel compiler with no extra flags, whatever the
// run settings say.
type AllocDeallocTest struct {
	kapp.Functional
}

func (t *AllocDeallocTest) Handler(stage string) pipeline.StageFunc {
	if stage == kapp.StageConfig {
		return t.config
	}
	return t.Functional.Handler(stage)
}

func (t *AllocDeallocTest) config(ctx context.Context, st *pipeline.Stage) error {
	st.Set(kapp.KeyFC, "ifort")
	st.Set(kapp.KeyFCFlags, "")
	return nil
}
