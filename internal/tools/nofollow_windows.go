//go:build windows

package tools

// Windows has no O_NOFOLLOW; OpenForWrite relies on the post-open check.
const noFollow = 0
