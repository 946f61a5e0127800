//go:build !linux

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
)

type Termios struct{}

// TurnOnRawIO always fails on this platform, making ReadPassword fall
// back to the echoing reader.
func TurnOnRawIO(tty *os.File) (orig Termios, err error) {
	return Termios{}, errors.New("TurnOnRawIO: not supported on this platform")
}

func TcSetAttr(fd uintptr, termios *Termios) error {
	return nil
}
