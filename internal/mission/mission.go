// Package mission reports whether satellite mission processes are running.
package mission

import (
	"bufio"
	"bytes"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

type Probe interface {
	Running() (bool, error)
}

// PidFile lists one pid per line, written by mission start script.
type PidFile struct {
	Path string
}

func (p PidFile) Pids() ([]int, error) {
	b, err := ioutil.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "mission pid file=%s", p.Path)
	}
	pids := make([]int, 0, 4)
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		for _, field := range strings.Fields(s.Text()) {
			pid, err := strconv.Atoi(field)
			if err != nil || pid <= 0 {
				return nil, errors.NotValidf("mission pid file=%s pid=%q", p.Path, field)
			}
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// Running is true if any listed process exists.
func (p PidFile) Running() (bool, error) {
	pids, err := p.Pids()
	if err != nil {
		return false, err
	}
	for _, pid := range pids {
		if Alive(pid) {
			return true, nil
		}
	}
	return false, nil
}

// Alive probes with signal 0. EPERM means process exists under another user.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
