//go:build unix

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

package emlprobe

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ynggny/emlprobe/framework/hooks"
	"github.com/ynggny/emlprobe/framework/log"
)

// handleSignals blocks until a termination signal (SIGTERM, SIGHUP,
// SIGINT) arrives and returns it. A second termination signal forces
// immediate exit. SIGUSR1 triggers log rotation hooks without
// returning.
func handleSignals() os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT, syscall.SIGUSR1)

	for {
		switch s := <-sig; s {
		case syscall.SIGUSR1:
			log.Println("SIGUSR1 received, reopening log files")
			hooks.RunHooks(hooks.EventLogRotate)
		default:
			go func() {
				s := <-sig
				log.Printf("forced shutdown due to signal (%v)!", s)
				os.Exit(1)
			}()

			return s
		}
	}
}
