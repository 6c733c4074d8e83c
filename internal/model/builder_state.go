package model

import (
	"encoding/json"
	"errors"
	"strings"
)

// BlockType tags one entry of the page-builder block list. The set is
// closed; unrecognized tags survive decoding and are skipped at render time.
type BlockType string

const (
	BlockTypeSection     BlockType = "section"
	BlockTypeHeading     BlockType = "heading"
	BlockTypeText        BlockType = "text"
	BlockTypeImage       BlockType = "image"
	BlockTypeButton      BlockType = "button"
	BlockTypeContactForm BlockType = "contactForm"

	// blockTypeFormspreeAlias is the legacy tag older clients send for
	// contact-form blocks.
	blockTypeFormspreeAlias = "formspree"
)

// Alignment positions a block's content.
type Alignment string

const (
	AlignmentLeft   Alignment = "left"
	AlignmentCenter Alignment = "center"
	AlignmentRight  Alignment = "right"
)

// Effect is an optional visual treatment applied to a block or the page.
type Effect string

const (
	EffectNone   Effect = "none"
	EffectShadow Effect = "shadow"
	EffectGlow   Effect = "glow"
)

var ErrInvalidBuilderState = errors.New("invalid_builder_state")

// ButtonFields carries the button-specific block properties.
type ButtonFields struct {
	URL     string `json:"url"`
	Padding string `json:"padding"`
}

// ContactFormFields carries the contact-form-specific block properties.
type ContactFormFields struct {
	SubmitLabel string `json:"submitLabel"`
}

// Block is one ordered entry of the builder state.
type Block struct {
	ID        int       `json:"id"`
	Type      BlockType `json:"type"`
	Content   string    `json:"content"`
	Alignment Alignment `json:"align"`
	Color     string    `json:"color"`
	Effect    Effect    `json:"effect"`

	Button      *ButtonFields      `json:"button,omitempty"`
	ContactForm *ContactFormFields `json:"contactForm,omitempty"`
}

// TextSection is a header or footer band.
type TextSection struct {
	Text      string    `json:"text"`
	Alignment Alignment `json:"align"`
	Color     string    `json:"color"`
}

// BuilderState is the structured page description submitted by the builder
// client and optionally persisted as the site's draft.
type BuilderState struct {
	SiteTitle       string      `json:"siteTitle"`
	TitleColor      string      `json:"titleColor"`
	Header          TextSection `json:"header"`
	Footer          TextSection `json:"footer"`
	AvatarURL       string      `json:"avatarUrl"`
	BackgroundColor string      `json:"backgroundColor"`
	Effect          Effect      `json:"effect"`
	Blocks          []Block     `json:"blocks"`
}

// DecodeBuilderState parses the wire representation and normalizes the
// closed enumerations. Unknown block types are preserved so the renderer can
// skip them; out-of-set alignments and effects fall back here.
func DecodeBuilderState(raw []byte) (BuilderState, error) {
	if len(raw) == 0 {
		return BuilderState{}, ErrInvalidBuilderState
	}

	var state BuilderState
	if unmarshalErr := json.Unmarshal(raw, &state); unmarshalErr != nil {
		return BuilderState{}, ErrInvalidBuilderState
	}

	state.Header.Alignment = NormalizeAlignment(state.Header.Alignment)
	state.Footer.Alignment = NormalizeAlignment(state.Footer.Alignment)
	state.Effect = NormalizeEffect(state.Effect)

	for index := range state.Blocks {
		block := &state.Blocks[index]
		block.Type = normalizeBlockType(block.Type)
		block.Alignment = NormalizeAlignment(block.Alignment)
		block.Effect = NormalizeEffect(block.Effect)
	}

	return state, nil
}

// HasContactForm reports whether any block renders a contact form.
func (state BuilderState) HasContactForm() bool {
	for _, block := range state.Blocks {
		if block.Type == BlockTypeContactForm {
			return true
		}
	}
	return false
}

// NormalizeAlignment maps out-of-set values to the left default.
func NormalizeAlignment(value Alignment) Alignment {
	switch value {
	case AlignmentLeft, AlignmentCenter, AlignmentRight:
		return value
	default:
		return AlignmentLeft
	}
}

// NormalizeEffect maps out-of-set values to no effect.
func NormalizeEffect(value Effect) Effect {
	switch value {
	case EffectShadow, EffectGlow:
		return value
	default:
		return EffectNone
	}
}

func normalizeBlockType(value BlockType) BlockType {
	trimmed := BlockType(strings.TrimSpace(string(value)))
	if trimmed == blockTypeFormspreeAlias {
		return BlockTypeContactForm
	}
	return trimmed
}
