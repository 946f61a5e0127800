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

package message

import (
	"errors"
	"fmt"
	"io"
	"strings"

	gomsg "github.com/emersion/go-message"

	// Transparent decoding of legacy charsets in MIME parts.
	_ "github.com/emersion/go-message/charset"
)

// ExtractParts walks the MIME structure of the message carried by req
// and fills in Subject, Text, HTML and Attachments from it. Fields
// that are already set are kept. The first text/plain and text/html
// parts win, subsequent ones are ignored.
//
// Unknown charsets and broken nested parts do not fail the whole
// extraction, whatever was decoded up to that point is kept.
func ExtractParts(req *AnalysisRequest) error {
	rawHeader := req.RawHeaders
	if rawHeader == "" {
		rawHeader = strings.Join(SynthesizeFields(req.Headers), "") + "\r\n"
	}

	ent, err := gomsg.Read(strings.NewReader(rawHeader + string(req.Body)))
	if err != nil && !gomsg.IsUnknownCharset(err) {
		return fmt.Errorf("message: %w", err)
	}

	if req.Subject == "" {
		req.Subject = req.Header("Subject")
	}

	return collectParts(ent, req)
}

func collectParts(ent *gomsg.Entity, req *AnalysisRequest) error {
	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if gomsg.IsUnknownCharset(err) {
					continue
				}
				return fmt.Errorf("message: %w", err)
			}
			if err := collectParts(part, req); err != nil {
				return err
			}
		}
		return nil
	}

	mediaType, _, err := ent.Header.ContentType()
	if err != nil {
		mediaType = "application/octet-stream"
	}
	disp, dispParams, _ := ent.Header.ContentDisposition()

	if disp == "attachment" || dispParams["filename"] != "" {
		// Contents are not analyzed, only measured.
		size, err := io.Copy(io.Discard, ent.Body)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		req.Attachments = append(req.Attachments, Attachment{
			Filename: dispParams["filename"],
			MIMEType: mediaType,
			Size:     size,
		})
		return nil
	}

	switch mediaType {
	case "text/plain":
		if req.Text != "" {
			return nil
		}
		data, err := io.ReadAll(ent.Body)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		req.Text = string(data)
	case "text/html":
		if req.HTML != "" {
			return nil
		}
		data, err := io.ReadAll(ent.Body)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		req.HTML = string(data)
	}
	return nil
}
