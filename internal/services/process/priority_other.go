//go:build !unix

package process

func lowerPriority(int) error {
	return nil
}
