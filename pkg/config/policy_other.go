//go:build !windows

package config

func loadPolicy(*Configuration) error {
	return ErrNoPolicy
}
