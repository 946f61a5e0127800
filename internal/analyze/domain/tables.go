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

package domain

// variant maps one non-ASCII codepoint to the ASCII text it imitates.
type variant struct {
	ASCII  string
	Script string
}

// confusables is the reverse confusable map: lookalike codepoint to the
// ASCII character it imitates. Populated at init from the per-script
// tables below; immutable afterwards.
var confusables = map[rune]variant{}

// pairTables lists hand-picked lookalikes per script. Each entry is the
// lookalike rune followed by its ASCII counterpart.
var pairTables = []struct {
	script string
	pairs  []struct {
		r     rune
		ascii string
	}
}{
	{"Cyrillic", []struct {
		r     rune
		ascii string
	}{
		{'а', "a"}, {'е', "e"}, {'о', "o"}, {'р', "p"}, {'с', "c"},
		{'у', "y"}, {'х', "x"}, {'і', "i"}, {'ѕ', "s"}, {'ј', "j"},
		{'һ', "h"}, {'ԁ', "d"}, {'ԛ', "q"}, {'ѡ', "w"}, {'ѵ', "v"},
		{'в', "b"}, {'м', "m"}, {'т', "t"}, {'н', "h"}, {'к', "k"},
		{'г', "r"}, {'ь', "b"}, {'ё', "e"}, {'й', "n"},
	}},
	{"Greek", []struct {
		r     rune
		ascii string
	}{
		{'α', "a"}, {'ο', "o"}, {'ν', "v"}, {'ι', "i"}, {'κ', "k"},
		{'ρ', "p"}, {'τ', "t"}, {'υ', "u"}, {'χ', "x"}, {'η', "n"},
		{'ω', "w"}, {'ς', "s"}, {'γ', "y"}, {'ε', "e"}, {'μ', "u"},
		{'β', "b"}, {'θ', "o"},
	}},
	{"Armenian", []struct {
		r     rune
		ascii string
	}{
		{'օ', "o"}, {'ո', "n"}, {'ս', "u"}, {'հ', "h"}, {'ց', "g"},
		{'զ', "q"}, {'ի', "h"}, {'ք', "p"},
	}},
	{"Latin Extended", []struct {
		r     rune
		ascii string
	}{
		{'à', "a"}, {'á', "a"}, {'â', "a"}, {'ã', "a"}, {'ä', "a"}, {'å', "a"},
		{'è', "e"}, {'é', "e"}, {'ê', "e"}, {'ë', "e"},
		{'ì', "i"}, {'í', "i"}, {'î', "i"}, {'ï', "i"}, {'ı', "i"},
		{'ò', "o"}, {'ó', "o"}, {'ô', "o"}, {'õ', "o"}, {'ö', "o"}, {'ø', "o"},
		{'ù', "u"}, {'ú', "u"}, {'û', "u"}, {'ü', "u"},
		{'ñ', "n"}, {'ç', "c"}, {'ł', "l"}, {'ş', "s"}, {'ý', "y"},
		{'ĝ', "g"}, {'ğ', "g"}, {'ŕ', "r"}, {'ź', "z"}, {'ż', "z"},
		{'ɑ', "a"}, {'ȷ', "j"}, {'đ', "d"}, {'ɡ', "g"},
	}},
}

// alphabetRanges lists styled copies of the Latin alphabet that map
// positionally onto A-Z, a-z or 0-9.
var alphabetRanges = []struct {
	script string
	start  rune
	first  byte // 'A', 'a' or '0'
	count  int
}{
	// Mathematical Alphanumeric Symbols: thirteen styled alphabets of
	// 52 letters each, uppercase followed by lowercase.
	{"Mathematical", 0x1D400, 'A', 26}, {"Mathematical", 0x1D41A, 'a', 26}, // bold
	{"Mathematical", 0x1D434, 'A', 26}, {"Mathematical", 0x1D44E, 'a', 26}, // italic
	{"Mathematical", 0x1D468, 'A', 26}, {"Mathematical", 0x1D482, 'a', 26}, // bold italic
	{"Mathematical", 0x1D49C, 'A', 26}, {"Mathematical", 0x1D4B6, 'a', 26}, // script
	{"Mathematical", 0x1D504, 'A', 26}, {"Mathematical", 0x1D51E, 'a', 26}, // fraktur
	{"Mathematical", 0x1D538, 'A', 26}, {"Mathematical", 0x1D552, 'a', 26}, // double-struck
	{"Mathematical", 0x1D5A0, 'A', 26}, {"Mathematical", 0x1D5BA, 'a', 26}, // sans-serif
	{"Mathematical", 0x1D5D4, 'A', 26}, {"Mathematical", 0x1D5EE, 'a', 26}, // sans bold
	{"Mathematical", 0x1D608, 'A', 26}, {"Mathematical", 0x1D622, 'a', 26}, // sans italic
	{"Mathematical", 0x1D670, 'A', 26}, {"Mathematical", 0x1D68A, 'a', 26}, // monospace
	{"Mathematical", 0x1D7CE, '0', 10}, // bold digits
	{"Mathematical", 0x1D7D8, '0', 10}, // double-struck digits
	{"Mathematical", 0x1D7E2, '0', 10}, // sans-serif digits
	{"Mathematical", 0x1D7F6, '0', 10}, // monospace digits

	{"Fullwidth", 0xFF21, 'A', 26},
	{"Fullwidth", 0xFF41, 'a', 26},
	{"Fullwidth", 0xFF10, '0', 10},

	{"Enclosed", 0x24B6, 'A', 26}, // Ⓐ..Ⓩ
	{"Enclosed", 0x24D0, 'a', 26}, // ⓐ..ⓩ
	{"Enclosed", 0x2460, '1', 9},  // ①..⑨
}

// multiChar lists ASCII sequences whose combination imitates another
// ASCII sequence. Applied after per-codepoint replacement, on the
// already-lowercased string.
var multiChar = []struct {
	seq, ascii string
}{
	{"rn", "m"},
	{"vv", "w"},
	{"cl", "d"},
	{"ci", "d"}, // cI before case folding
	{"ii", "n"},
	{"i1", "l"}, // I1 before case folding
	{"0o", "oo"},
	{"o0", "oo"},
}

func init() {
	for _, table := range pairTables {
		for _, p := range table.pairs {
			confusables[p.r] = variant{ASCII: p.ascii, Script: table.script}
		}
	}
	for _, rng := range alphabetRanges {
		for i := 0; i < rng.count; i++ {
			confusables[rng.start+rune(i)] = variant{
				ASCII:  string(rng.first + byte(i)),
				Script: rng.script,
			}
		}
	}
}
