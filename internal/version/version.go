package version

import "fmt"

// Set at build time with -ldflags "-X github.com/xbcsmith/xzepr/internal/version.Commit=...".
var (
	Major = 0
	Minor = 1
	Patch = 0

	Commit = "dev"
)

func Short() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
}

func Full() string {
	return fmt.Sprintf("%s+%s", Short(), Commit)
}
