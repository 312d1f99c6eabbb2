// Package elfinfo extracts the little the regression needs from ELF images.
package elfinfo

import (
	"debug/elf"
	"fmt"
)

// EntryPoint returns the entry address of the ELF image at path.
func EntryPoint(path string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read ELF %s: %w", path, err)
	}
	defer f.Close()
	return f.Entry, nil
}
