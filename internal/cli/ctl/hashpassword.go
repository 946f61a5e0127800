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

package ctl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/GehirnInc/crypt"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	emlcli "github.com/ynggny/emlprobe/internal/cli"
	"github.com/ynggny/emlprobe/internal/cli/clitools"

	_ "github.com/GehirnInc/crypt/sha256_crypt"
	_ "github.com/GehirnInc/crypt/sha512_crypt"
)

func init() {
	emlcli.AddSubcommand(
		&cli.Command{
			Name:   "hash-password",
			Usage:  "Generate a password hash for admin_password_hash",
			Action: hashPasswordCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "password",
					Aliases: []string{"p"},
					Usage:   "Use `PASSWORD` instead of reading password from stdin\n\t\tWARNING: Provided only for debugging convenience. Don't leave your passwords in shell history!",
				},
				&cli.StringFlag{
					Name:  "scheme",
					Usage: "Hash scheme to use (sha256, bcrypt, sha256-crypt, sha512-crypt)",
					Value: "sha256",
				},
				&cli.IntFlag{
					Name:  "bcrypt-cost",
					Usage: "Specify bcrypt cost value",
					Value: bcrypt.DefaultCost,
				},
			},
		})
}

func hashPasswordCommand(ctx *cli.Context) error {
	var pass string
	if ctx.IsSet("password") {
		pass = ctx.String("password")
	} else {
		var err error
		pass, err = clitools.ReadPassword("Password")
		if err != nil {
			return err
		}
	}

	if pass == "" {
		fmt.Fprintln(os.Stderr, "WARNING: This is the hash of an empty string")
	}
	if strings.TrimSpace(pass) != pass {
		fmt.Fprintln(os.Stderr, "WARNING: There is leading/trailing whitespace in the string")
	}

	hash, err := hashPassword(ctx.String("scheme"), pass, ctx.Int("bcrypt-cost"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func hashPassword(scheme, pass string, bcryptCost int) (string, error) {
	switch scheme {
	case "sha256":
		sum := sha256.Sum256([]byte(pass))
		return hex.EncodeToString(sum[:]), nil
	case "bcrypt":
		if bcryptCost > bcrypt.MaxCost {
			return "", cli.Exit("Error: too big bcrypt cost", 2)
		}
		if bcryptCost < bcrypt.MinCost {
			return "", cli.Exit("Error: too small bcrypt cost", 2)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcryptCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	case "sha256-crypt":
		return crypt.SHA256.New().Generate([]byte(pass), nil)
	case "sha512-crypt":
		return crypt.SHA512.New().Generate([]byte(pass), nil)
	default:
		return "", cli.Exit("Error: unknown hash scheme, available: sha256, bcrypt, sha256-crypt, sha512-crypt", 2)
	}
}
