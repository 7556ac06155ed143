package kernel

import (
	"context"
	"encoding/base64"
	"fmt"
)

func init() {
	Kernels.Register("apply_updates", func() Kernel { return &ApplyUpdates{} })
	Kernels.Register("noop", func() Kernel { return &Noop{} })
}

// ApplyUpdates is a small reference kernel used by end-to-end tests: it
// replays a fixed list of key/value writes through its bound table via
// Context.Update, in order. task_args carries the writes as
// "update.<n>.key" / "update.<n>.value", base64-encoded so arbitrary bytes
// survive the string map.
type ApplyUpdates struct {
	rc       Context
	taskArgs map[string]string
}

func (k *ApplyUpdates) Init(rc Context, _ map[string]string, taskArgs map[string]string) error {
	k.rc = rc
	k.taskArgs = taskArgs
	return nil
}

func (k *ApplyUpdates) Run(context.Context) error {
	failAfter := -1
	if v, ok := k.taskArgs["fail_after"]; ok {
		fmt.Sscanf(v, "%d", &failAfter)
	}

	for i := 0; ; i++ {
		if failAfter >= 0 && i == failAfter {
			return Fail("injected_failure", "failing after %d updates", i)
		}
		key, ok := k.taskArgs[fmt.Sprintf("update.%d.key", i)]
		if !ok {
			return nil
		}
		value := k.taskArgs[fmt.Sprintf("update.%d.value", i)]
		if err := k.rc.Update(DecodeArg(key), DecodeArg(value)); err != nil {
			return Fail("update_failed", "update %d: %v", i, err)
		}
	}
}

// Noop runs and returns immediately; useful for exercising the RunKernel
// dispatch path (routing checks, elapsed timing) without touching state.
type Noop struct{}

func (*Noop) Init(Context, map[string]string, map[string]string) error { return nil }
func (*Noop) Run(context.Context) error                                 { return nil }

// DecodeArg base64-decodes a task/kernel arg value, for kernels that need to
// carry opaque key/value bytes through the string-typed argument maps.
func DecodeArg(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// EncodeArg base64-encodes bytes for embedding in a task/kernel arg map.
func EncodeArg(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
