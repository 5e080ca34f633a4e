//go:build nighthawk

// Package scenario holds natural functions whose generated code is checked in.
package scenario

// natural
// Set <:result> to <x> plus one.
func Increment(x int) int {
	var result int
	return result
}

// CountIterations runs n iterations. The natural block ends each one early.
func CountIterations(n int) int {
	count := 0
	for i := 0; i < n; i++ {
		count++
		"natural\nSkip the rest of iteration <i>.\n"
		count += 100
	}
	return count
}
