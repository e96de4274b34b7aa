package domain

import (
	"fmt"
	"strings"
	"time"
)

// StoryRequest carries the caller-provided parameters for one story video.
type StoryRequest struct {
	Age              int      `json:"age"`
	ReadingLevel     string   `json:"reading_level"`
	DiagnosisSummary string   `json:"diagnosis_summary"`
	Situation        string   `json:"situation"`
	Setting          string   `json:"setting"`
	WordsToAvoid     []string `json:"words_to_avoid"`
	VoicePreset      string   `json:"voice_preset"`
}

// Validate checks the required request fields.
func (r StoryRequest) Validate() error {
	if strings.TrimSpace(r.Situation) == "" {
		return fmt.Errorf("%w: situation is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Setting) == "" {
		return fmt.Errorf("%w: setting is required", ErrInvalidRequest)
	}
	return nil
}

// Scene is one narrated segment of the story.
type Scene struct {
	ID           int    `json:"id"`
	Goal         string `json:"goal"`
	Script       string `json:"script"`
	OnScreenText string `json:"on_screen_text"`
	ImagePrompt  string `json:"image_prompt"`
	DurationSec  int    `json:"duration_sec"`
	AudioSSML    string `json:"audio_ssml"`
}

// StorySpec is the structured plan produced by the story generation stage.
// It is immutable once produced.
type StorySpec struct {
	Meta               map[string]any `json:"meta"`
	Scenes             []Scene        `json:"scenes"`
	ClosingAffirmation string         `json:"closing_affirmation"`
	SRT                string         `json:"srt"`
}

// Validate checks that the spec carries at least one scene and that scene ids
// form the sequence 0..n-1, which downstream file naming relies on.
func (s StorySpec) Validate() error {
	if len(s.Scenes) == 0 {
		return fmt.Errorf("story spec has no scenes")
	}
	seen := make(map[int]bool, len(s.Scenes))
	for _, sc := range s.Scenes {
		if sc.ID < 0 || sc.ID >= len(s.Scenes) {
			return fmt.Errorf("scene id %d out of range [0,%d)", sc.ID, len(s.Scenes))
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scene id %d", sc.ID)
		}
		seen[sc.ID] = true
		if sc.DurationSec <= 0 {
			return fmt.Errorf("scene %d has non-positive duration", sc.ID)
		}
	}
	return nil
}

// SceneAsset holds the generated media references for one scene.
type SceneAsset struct {
	SceneID     int
	ImagePath   string
	AudioPath   string
	DurationSec int
}

// Artifact is the final encoded binary of a job, fully captured into memory
// before the working area that produced it is released.
type Artifact struct {
	Data        []byte
	SizeBytes   int64
	MIMEType    string
	ProducedAt  time.Time
	RedirectURL string
}
