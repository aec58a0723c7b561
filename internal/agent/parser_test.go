package agent

import (
	"reflect"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Action
	}{
		{
			name: "plain message",
			text: "The build passed.",
			want: []Action{{Type: ActionMessage, Content: "The build passed."}},
		},
		{
			name: "reaction then message",
			text: "[react: 👀] Looking into it now.",
			want: []Action{
				{Type: ActionReact, Emoji: "👀"},
				{Type: ActionMessage, Content: "Looking into it now."},
			},
		},
		{
			name: "reaction only",
			text: "[react:✅]",
			want: []Action{{Type: ActionReact, Emoji: "✅"}},
		},
		{
			name: "multiple reactions",
			text: "[react: 👀][react: 🔧] on it",
			want: []Action{
				{Type: ActionReact, Emoji: "👀"},
				{Type: ActionReact, Emoji: "🔧"},
				{Type: ActionMessage, Content: "on it"},
			},
		},
		{
			name: "silent",
			text: "[silent]",
			want: []Action{{Type: ActionSilent}},
		},
		{
			name: "silent is case insensitive and wins over text",
			text: "[SILENT] leftover mumbling",
			want: []Action{{Type: ActionSilent}},
		},
		{
			name: "reply",
			text: "[reply] Yes, that was me.",
			want: []Action{{Type: ActionReply, Content: "Yes, that was me."}},
		},
		{
			name: "empty text yields nothing",
			text: "   \n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseResponse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseResponse(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}
