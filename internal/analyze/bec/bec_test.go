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

package bec

import (
	"testing"

	"github.com/ynggny/emlprobe/internal/message"
)

func indicator(res Result, name string) *Indicator {
	for i := range res.Indicators {
		if res.Indicators[i].Name == name {
			return &res.Indicators[i]
		}
	}
	return nil
}

func TestAnalyze_JapaneseCombo(t *testing.T) {
	res := Analyze(&message.AnalysisRequest{
		Subject: "【至急】振込先変更のお願い",
		Text:    "新しい口座に振込をお願いします。このことは他の誰にも言わないでください。",
	})

	transfer := indicator(res, "送金要求")
	if transfer == nil || transfer.Severity != "high" || transfer.Category != "financial" {
		t.Errorf("wrong 送金要求 indicator: %+v", transfer)
	}
	secrecy := indicator(res, "口止め")
	if secrecy == nil || secrecy.Severity != "high" || secrecy.Category != "secrecy" {
		t.Errorf("wrong 口止め indicator: %+v", secrecy)
	}
	urgency := indicator(res, "緊急性の強調")
	if urgency == nil || urgency.Severity != "medium" || urgency.Category != "urgency" {
		t.Errorf("wrong 緊急性の強調 indicator: %+v", urgency)
	}
	if indicator(res, "financial+secrecy combo") == nil {
		t.Errorf("missing combo composite: %+v", res.Indicators)
	}
	if indicator(res, "complex high-risk") == nil {
		t.Errorf("missing complex composite: %+v", res.Indicators)
	}

	// Sorted high before medium.
	last := 3
	for _, ind := range res.Indicators {
		rank := severityRank(ind.Severity)
		if rank > last {
			t.Fatalf("indicators not sorted: %+v", res.Indicators)
		}
		last = rank
	}
}

func TestAnalyze_English(t *testing.T) {
	res := Analyze(&message.AnalysisRequest{
		Subject: "Urgent wire transfer",
		Text:    "Please keep this confidential. Process the wire transfer immediately.",
	})

	if indicator(res, "wire transfer request") == nil {
		t.Errorf("missing transfer indicator: %+v", res.Indicators)
	}
	if indicator(res, "confidentiality demand") == nil {
		t.Errorf("missing secrecy indicator: %+v", res.Indicators)
	}
	if indicator(res, "urgency pressure") == nil {
		t.Errorf("missing urgency indicator: %+v", res.Indicators)
	}
	if indicator(res, "financial+secrecy combo") == nil {
		t.Errorf("missing combo: %+v", res.Indicators)
	}
}

func TestAnalyze_HTMLStripped(t *testing.T) {
	res := Analyze(&message.AnalysisRequest{
		HTML: "<p>Please <b>click here</b> to continue.</p>",
	})
	if indicator(res, "call to action") == nil {
		t.Errorf("missing action indicator: %+v", res.Indicators)
	}
}

func TestAnalyze_Clean(t *testing.T) {
	res := Analyze(&message.AnalysisRequest{
		Subject: "Weekly sync notes",
		Text:    "Attached are the notes from our weekly sync. See you next time.",
	})
	if len(res.Indicators) != 0 {
		t.Errorf("expected no indicators, got %+v", res.Indicators)
	}
}

func TestCount(t *testing.T) {
	res := Result{Indicators: []Indicator{
		{Severity: "high"}, {Severity: "high"}, {Severity: "medium"},
	}}
	if res.Count("high") != 2 || res.Count("medium") != 1 || res.Count("low") != 0 {
		t.Error("wrong counts")
	}
}
