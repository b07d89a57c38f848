package session

import "github.com/blitsync/blit/internal/bundle"

// deltaThreshold is the minimum size of an already-present, differing file
// for the delta path to be worth its signature/scan overhead, per
// spec.md §4.8.
const deltaThreshold = 4 << 20 // 4 MiB

func bundleConfig() bundle.Config { return bundle.DefaultConfig() }
