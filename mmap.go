package rlbridge

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile owns a memory-mapped region backing one np channel's value.
// Per spec.md §9, the mapping outlives the channel handle only as long as
// the backing file descriptor stays open, so the *os.File and the mapped
// slice are released together in close().
type mappedFile struct {
	file *os.File
	data []byte
}

// openMapped opens (and, if owner, pre-sizes) the backing file at path and
// maps it PROT_READ|PROT_WRITE, MAP_SHARED. The server is the owner: it
// creates and truncates the file to size before accept, as spec.md §3
// requires. The client opens the file the server already sized and
// verifies the size matches, since channel layout is fixed after the
// handshake.
func openMapped(path string, size int64, owner bool) (*mappedFile, error) {
	flags := os.O_RDWR
	if owner {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("np channel: open backing file %s: %w", path, err)
	}
	if owner {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("np channel: truncate backing file %s: %w", path, err)
		}
	} else {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("np channel: stat backing file %s: %w", path, err)
		}
		if fi.Size() != size {
			f.Close()
			return nil, fmt.Errorf("np channel: backing file %s has size %d bytes, want %d", path, fi.Size(), size)
		}
	}

	if size == 0 {
		return &mappedFile{file: f}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("np channel: mmap backing file %s: %w", path, err)
	}
	return &mappedFile{file: f, data: data}, nil
}

func (m *mappedFile) close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
		m.file = nil
	}
	return err
}
