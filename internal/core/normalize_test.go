package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"genflow/internal/core"
	"genflow/internal/model"
)

func TestNormalizeLocation(t *testing.T) {
	tests := map[string]struct {
		in  string
		exp string
	}{
		"A local network image URL should become a relative path.": {
			in:  "http://10.0.0.5:9000/files/x.png",
			exp: "files/x.png",
		},
		"A local network URL without port should become a relative path.": {
			in:  "http://192.168.1.5/files/out.mp4",
			exp: "files/out.mp4",
		},
		"A relative path should be left untouched.": {
			in:  "files/x.png",
			exp: "files/x.png",
		},
		"A public URL should be left untouched.": {
			in:  "https://cdn.example.com/files/x.png",
			exp: "https://cdn.example.com/files/x.png",
		},
		"A local URL that does not point to a file should be left untouched.": {
			in:  "http://10.0.0.5:9000/status",
			exp: "http://10.0.0.5:9000/status",
		},
		"A non URL string should be left untouched.": {
			in:  "a red fox",
			exp: "a red fox",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := core.NormalizeLocation(test.in)
			assert.Equal(t, test.exp, got)
			assert.Equal(t, got, core.NormalizeLocation(got))
		})
	}
}

func TestNormalizeParams(t *testing.T) {
	assert := assert.New(t)

	in := model.Params{
		"url":    "http://10.0.0.5:9000/files/x.png",
		"prompt": "a red fox",
		"steps":  float64(20),
		"orchestrator_details": map[string]any{
			"input_images": []any{"http://192.168.1.5:8085/files/a.png", "files/b.png"},
		},
		"frames": []string{"http://10.0.0.5/files/f0.png"},
	}

	got := core.NormalizeParams(in)
	assert.Equal(model.Params{
		"url":    "files/x.png",
		"prompt": "a red fox",
		"steps":  float64(20),
		"orchestrator_details": map[string]any{
			"input_images": []any{"files/a.png", "files/b.png"},
		},
		"frames": []string{"files/f0.png"},
	}, got)

	// The input is not modified and normalizing twice changes nothing.
	assert.Equal("http://10.0.0.5:9000/files/x.png", in["url"])
	assert.Equal(got, core.NormalizeParams(got))
	assert.Nil(core.NormalizeParams(nil))
}
