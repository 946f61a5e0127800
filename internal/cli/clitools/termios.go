//go:build linux

/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package clitools

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

type Termios = unix.Termios

// TurnOnRawIO sets flags suitable for raw I/O (no echo, per-character
// input) and returns the original flags.
func TurnOnRawIO(tty *os.File) (orig Termios, err error) {
	termios, err := unix.IoctlGetTermios(int(tty.Fd()), unix.TCGETS)
	if err != nil {
		return Termios{}, errors.New("TurnOnRawIO: failed to get flags: " + err.Error())
	}
	termiosOrig := *termios

	termios.Lflag &^= unix.ECHO
	termios.Lflag &^= unix.ICANON
	termios.Iflag &^= unix.IXON
	termios.Lflag &^= unix.ISIG
	termios.Iflag |= unix.IUTF8
	if err := unix.IoctlSetTermios(int(tty.Fd()), unix.TCSETS, termios); err != nil {
		return Termios{}, errors.New("TurnOnRawIO: failed to set flags: " + err.Error())
	}
	return termiosOrig, nil
}

func TcSetAttr(fd uintptr, termios *Termios) error {
	return unix.IoctlSetTermios(int(fd), unix.TCSETS, termios)
}
