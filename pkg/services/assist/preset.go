package assist

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liut/inkwell/pkg/settings"
)

const (
	dftSystemMsg = "You are a helpful writing assistant for a blogging tool. " +
		"Help the author brainstorm topics, outline posts, and polish their prose."
	dftWelcome = "Hi, I can help you with your writing."
)

// Preset is loaded from a yaml file, all fields optional
type Preset struct {
	SystemPrompt string   `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	Welcome      string   `json:"welcome,omitempty" yaml:"welcome,omitempty"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens    int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Temperature  float32  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Stop         []string `json:"stop,omitempty" yaml:"stop,omitempty"`
}

func (p Preset) systemPrompt() string {
	if len(p.SystemPrompt) > 0 {
		return p.SystemPrompt
	}
	return dftSystemMsg
}

func (p Preset) welcome() string {
	if len(p.Welcome) > 0 {
		return p.Welcome
	}
	return dftWelcome
}

// LoadPreset reads settings.Current.PresetFile, an empty name gives the zero Preset
func LoadPreset() (doc Preset, err error) {
	if len(settings.Current.PresetFile) > 0 {
		return LoadPresetFile(settings.Current.PresetFile)
	}
	return
}

// LoadPresetFile decodes the yaml preset at name.
func LoadPresetFile(name string) (doc Preset, err error) {
	var yf *os.File
	yf, err = os.Open(name)
	if err != nil {
		logger().Infow("load preset fail", "file", name, "err", err)
		return
	}
	defer yf.Close()
	err = yaml.NewDecoder(yf).Decode(&doc)
	if err != nil {
		logger().Infow("decode preset fail", "err", err)
	}
	return
}
