package main

import (
	"os"
	"strings"

	"minder-cli/internal/cli"

	"github.com/joho/godotenv"
)

func isItemID(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "item-") && len(s) > len("item-")
}

// rewriteDirectItemLookupArgs turns `minder <item-id>` into
// `minder items show <item-id>`. Cobra treats the first non-flag token as a
// subcommand, so argv is rewritten before parsing; persistent flags may come
// first, so the first positional token is located rather than argv[1].
func rewriteDirectItemLookupArgs(argv []string) []string {
	if len(argv) < 2 {
		return argv
	}

	// Unknown flags are skipped without consuming a value so an item id is never swallowed.
	valueFlags := map[string]bool{
		"--dir":       true,
		"--project":   true,
		"--format":    true,
		"--log-level": true,
	}
	boolFlags := map[string]bool{
		"--pretty": true,
	}

	rewrite := func(i int) []string {
		out := make([]string, 0, len(argv)+2)
		out = append(out, argv[:i]...)
		out = append(out, "items", "show")
		return append(out, argv[i:]...)
	}

	for i := 1; i < len(argv); i++ {
		a := strings.TrimSpace(argv[i])
		if a == "" {
			continue
		}
		if a == "--" {
			if i+1 < len(argv) && isItemID(argv[i+1]) {
				return rewrite(i + 1)
			}
			return argv
		}
		if strings.HasPrefix(a, "-") {
			if strings.Contains(a, "=") || boolFlags[a] {
				continue
			}
			if valueFlags[a] {
				i++
			}
			continue
		}
		if isItemID(a) {
			return rewrite(i)
		}
		return argv
	}
	return argv
}

func main() {
	_ = godotenv.Load()
	os.Args = rewriteDirectItemLookupArgs(os.Args)

	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
