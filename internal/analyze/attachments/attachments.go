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

// Package attachments grades attachment metadata. Contents are never
// inspected, only names, declared MIME types and sizes.
package attachments

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/ynggny/emlprobe/internal/message"
)

// Item is one graded attachment.
type Item struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`

	// Risk is one of safe, warning, dangerous.
	Risk string `json:"risk"`

	Issues []string `json:"issues,omitempty"`
}

// Result carries all graded attachments sorted dangerous first.
type Result struct {
	Risk  string `json:"risk"`
	Items []Item `json:"items,omitempty"`
}

const maxSize = 25 << 20 // 25 MiB

var executableExts = map[string]bool{
	".exe": true, ".scr": true, ".bat": true, ".cmd": true, ".com": true,
	".pif": true, ".msi": true, ".vbs": true, ".vbe": true, ".js": true,
	".jse": true, ".wsf": true, ".wsh": true, ".ps1": true, ".jar": true,
	".hta": true, ".cpl": true, ".reg": true, ".lnk": true, ".iso": true,
	".img": true, ".apk": true,
}

var macroOfficeExts = map[string]bool{
	".docm": true, ".xlsm": true, ".pptm": true, ".dotm": true,
	".xltm": true, ".xlam": true, ".potm": true, ".ppam": true,
	".sldm": true,
}

var archiveExts = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	".bz2": true, ".xz": true, ".cab": true, ".arj": true, ".lzh": true,
}

var executableMIMEs = map[string]bool{
	"application/x-msdownload":          true,
	"application/x-executable":          true,
	"application/x-dosexec":             true,
	"application/x-msdos-program":       true,
	"application/vnd.ms-cab-compressed": true,
	"application/x-sh":                  true,
	"application/java-archive":          true,
}

// mimeByExt maps common extensions to their expected MIME types.
// Deliberately non-exhaustive, a miss is never reported on its own.
var mimeByExt = map[string][]string{
	".pdf":  {"application/pdf"},
	".zip":  {"application/zip", "application/x-zip-compressed"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".gif":  {"image/gif"},
	".txt":  {"text/plain"},
	".html": {"text/html"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".xls":  {"application/vnd.ms-excel"},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	".ppt":  {"application/vnd.ms-powerpoint"},
	".pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	".csv":  {"text/csv"},
	".mp4":  {"video/mp4"},
	".mp3":  {"audio/mpeg"},
}

var malwareNames = []string{
	"invoice", "payment", "receipt", "remittance", "swift", "purchase_order",
	"請求書", "支払", "振込", "注文書",
}

// Analyze grades every attachment of the message.
func Analyze(req *message.AnalysisRequest) Result {
	res := Result{Risk: "safe"}
	for _, att := range req.Attachments {
		item := analyzeOne(att)
		res.Items = append(res.Items, item)
		if riskRank(item.Risk) > riskRank(res.Risk) {
			res.Risk = item.Risk
		}
	}
	sort.SliceStable(res.Items, func(i, j int) bool {
		return riskRank(res.Items[i].Risk) > riskRank(res.Items[j].Risk)
	})
	return res
}

func analyzeOne(att message.Attachment) Item {
	item := Item{Filename: att.Filename, MIMEType: att.MIMEType, Size: att.Size, Risk: "safe"}
	raise := func(risk, issue string) {
		item.Issues = append(item.Issues, issue)
		if riskRank(risk) > riskRank(item.Risk) {
			item.Risk = risk
		}
	}

	name := att.Filename
	lower := strings.ToLower(name)
	ext := filepath.Ext(lower)
	mimeType := strings.ToLower(strings.TrimSpace(att.MIMEType))
	if indx := strings.IndexByte(mimeType, ';'); indx != -1 {
		mimeType = strings.TrimSpace(mimeType[:indx])
	}

	switch {
	case executableExts[ext]:
		raise("dangerous", "executable file type ("+ext+")")
	case macroOfficeExts[ext]:
		raise("dangerous", "macro-enabled Office document ("+ext+")")
	case archiveExts[ext]:
		raise("warning", "archive file ("+ext+")")
	}
	if executableMIMEs[mimeType] {
		raise("dangerous", "executable MIME type ("+mimeType+")")
	}

	// report.pdf.exe style.
	if executableExts[ext] && strings.Count(lower, ".") >= 2 {
		raise("dangerous", "double extension")
	}

	if strings.ContainsAny(name, "‮⁦⁧⁨") {
		raise("dangerous", "bidirectional control characters in filename")
	}

	if expected, ok := mimeByExt[ext]; ok && mimeType != "" &&
		mimeType != "application/octet-stream" && !contains(expected, mimeType) {
		raise("warning", fmt.Sprintf("MIME type %s does not match extension %s", mimeType, ext))
	}

	if len(name) > 150 {
		raise("warning", "unusually long filename")
	}

	if script := foreignScript(name); script != "" {
		raise("warning", "filename contains "+script+" characters")
	}

	if matched := malwareName(lower); matched != "" && (executableExts[ext] || macroOfficeExts[ext] || archiveExts[ext]) {
		raise("dangerous", "lure filename ("+matched+") with risky extension")
	}

	if att.Size == 0 {
		raise("warning", "empty attachment")
	} else if att.Size > maxSize {
		raise("warning", "attachment larger than 25 MiB")
	}
	return item
}

// foreignScript reports the first script outside Latin, CJK and common
// punctuation found in the filename.
func foreignScript(name string) string {
	for _, r := range name {
		if r < 128 || unicode.In(r, unicode.Latin, unicode.Han, unicode.Hiragana,
			unicode.Katakana, unicode.Hangul, unicode.Common, unicode.Inherited) {
			continue
		}
		switch {
		case unicode.In(r, unicode.Cyrillic):
			return "Cyrillic"
		case unicode.In(r, unicode.Greek):
			return "Greek"
		case unicode.In(r, unicode.Arabic):
			return "Arabic"
		case unicode.In(r, unicode.Hebrew):
			return "Hebrew"
		default:
			return "unexpected script"
		}
	}
	return ""
}

func malwareName(lower string) string {
	for _, pattern := range malwareNames {
		if strings.Contains(lower, pattern) {
			return pattern
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func riskRank(risk string) int {
	switch risk {
	case "dangerous":
		return 2
	case "warning":
		return 1
	default:
		return 0
	}
}
