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

// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfgparser

import (
	"errors"
	"fmt"
	"io"
)

// dispenser is a cursor over a token stream. Before the first Next call it
// points to the imaginary token before the stream start.
type dispenser struct {
	file   string
	tokens []token
	cursor int
}

func newDispenser(file string, input io.Reader) (*dispenser, error) {
	tokens, err := allTokens(file, input)
	if err != nil {
		return nil, err
	}
	return &dispenser{
		file:   file,
		tokens: tokens,
		cursor: -1,
	}, nil
}

// Next advances the cursor to the next token, crossing line boundaries.
// It returns false if there are no more tokens.
func (d *dispenser) Next() bool {
	if d.cursor >= len(d.tokens)-1 {
		d.cursor = len(d.tokens)
		return false
	}
	d.cursor++
	return true
}

// NextArg advances the cursor only if the next token is on the same line as
// the current one.
func (d *dispenser) NextArg() bool {
	if d.cursor < 0 {
		return false
	}
	if d.cursor >= len(d.tokens)-1 {
		return false
	}
	if d.tokens[d.cursor+1].Line != d.tokens[d.cursor].Line {
		return false
	}
	d.cursor++
	return true
}

// NextLine advances the cursor only if the next token is NOT on the same
// line as the current one.
func (d *dispenser) NextLine() bool {
	if d.cursor < 0 {
		return d.Next()
	}
	if d.cursor >= len(d.tokens)-1 {
		return false
	}
	if d.tokens[d.cursor+1].Line == d.tokens[d.cursor].Line {
		return false
	}
	d.cursor++
	return true
}

// Val returns the text of the current token or an empty string if the cursor
// is out of bounds.
func (d *dispenser) Val() string {
	if d.cursor < 0 || d.cursor >= len(d.tokens) {
		return ""
	}
	return d.tokens[d.cursor].Text
}

func (d *dispenser) Line() int {
	if d.cursor < 0 || d.cursor >= len(d.tokens) {
		return 0
	}
	return d.tokens[d.cursor].Line
}

func (d *dispenser) File() string {
	return d.file
}

// Err generates a syntax error at the current cursor position.
func (d *dispenser) Err(msg string) error {
	if d.Line() == 0 {
		return errors.New(d.file + ": " + msg)
	}
	return fmt.Errorf("%s:%d: %s", d.file, d.Line(), msg)
}

// SyntaxErr generates a syntax error at the current cursor position naming
// what was expected there.
func (d *dispenser) SyntaxErr(expected string) error {
	return fmt.Errorf("%s:%d: syntax error: unexpected token '%s', expecting '%s'", d.file, d.Line(), d.Val(), expected)
}
