package shuffle

import (
	"io"
	"os"
	"sync"
)

// spillDir owns a temporary directory of spilled outputs, created on first use
type spillDir struct {
	parent string
	lock   sync.Mutex
	path   string
}

func (d *spillDir) dir() (string, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.path == "" {
		path, err := os.MkdirTemp(d.parent, "sluice-shuffle-")
		if err != nil {
			return "", err
		}
		d.path = path
	}
	return d.path, nil
}

// write stores parts in a new file, framed like a block
func (d *spillDir) write(parts [][]byte) (string, error) {
	dir, err := d.dir()
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "part-")
	if err != nil {
		return "", err
	}
	var w BlockWriter
	w.Append(parts...)
	if _, err := f.Write(w.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (d *spillDir) read(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parts [][]byte
	r := NewBlockReader(data)
	for {
		part, err := r.Next()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
}

func (d *spillDir) remove(path string) {
	_ = os.Remove(path)
}

func (d *spillDir) release() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.path == "" {
		return nil
	}
	err := os.RemoveAll(d.path)
	d.path = ""
	return err
}
