package main

import "testing"

func TestAlterRequestMapping(t *testing.T) {
	tests := []struct {
		field, value string
		wantPath     string
		wantBodyKey  string
	}{
		{"tagline", "new words", "/api/alterTagline", "tagline"},
		{"status", "completed", "/api/updateStatus", "status"},
		{"monitoring", "on", "/api/addMonitor", ""},
		{"monitoring", "off", "/api/removeMonitor", ""},
		{"visibility", "ignored", "/api/ignoreItem", ""},
		{"visibility", "visible", "/api/unignoreItem", ""},
		{"responsibility", "mine", "/api/takeItem", ""},
		{"responsibility", "nobody", "/api/surrenderItem", ""},
	}
	for _, tc := range tests {
		path, body, err := alterRequest("00000042", tc.field, tc.value)
		if err != nil {
			t.Errorf("%s %s: %v", tc.field, tc.value, err)
			continue
		}
		if path != tc.wantPath {
			t.Errorf("%s %s: path = %s, want %s", tc.field, tc.value, path, tc.wantPath)
		}
		if body["itemId"] != "00000042" {
			t.Errorf("%s %s: body lost itemId: %v", tc.field, tc.value, body)
		}
		if tc.wantBodyKey != "" && body[tc.wantBodyKey] != tc.value {
			t.Errorf("%s %s: body[%s] = %v", tc.field, tc.value, tc.wantBodyKey, body[tc.wantBodyKey])
		}
	}
}

func TestAlterRequestRejectsBadValues(t *testing.T) {
	for _, tc := range [][2]string{
		{"monitoring", "maybe"},
		{"visibility", "hidden"},
		{"responsibility", "yours"},
		{"priority", "high"},
	} {
		if _, _, err := alterRequest("00000042", tc[0], tc[1]); err == nil {
			t.Errorf("%s %s accepted", tc[0], tc[1])
		}
	}
}
