package apply

import "testing"

func TestApplyFlags(t *testing.T) {
	for _, name := range []string{"manifest", "auto-approve", "dry-run", "lock-timeout", "no-color", "db", "user"} {
		if ApplyCmd.Flags().Lookup(name) == nil {
			t.Errorf("apply command is missing --%s", name)
		}
	}
}
