package probe

import "os"

// FileProbe reports ready once Path exists. Useful for services that
// create a ready marker or a socket file on startup.
type FileProbe struct {
	Path string
}

func (p FileProbe) Ready() (bool, error) {
	_, err := os.Stat(p.Path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (p FileProbe) Describe() string { return "file:" + p.Path }
