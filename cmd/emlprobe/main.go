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

package main

import (
	emlcli "github.com/ynggny/emlprobe/internal/cli"

	// Side effect: registers the run and version subcommands.
	_ "github.com/ynggny/emlprobe"
	// Side effect: registers the analyze and hash-password subcommands.
	_ "github.com/ynggny/emlprobe/internal/cli/ctl"
)

func main() {
	emlcli.Run()
}
