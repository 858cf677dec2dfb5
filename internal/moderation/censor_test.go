package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCensor_Apply(t *testing.T) {
	req := require.New(t)
	censor, err := NewCensor([]string{"badger", "Snake"}, '*')
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single word", "The badger is here", "The ****** is here"},
		{"case insensitive", "BADGER and snake", "****** and *****"},
		{"repeated", "badger badger", "****** ******"},
		{"punctuation boundary", "snake!", "*****!"},
		{"inside another word", "badgers are snakey", "badgers are snakey"},
		{"clean text", "hello world", "hello world"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, censor.Apply(tt.input))
		})
	}
}

func TestCensor_MultibyteText(t *testing.T) {
	censor, err := NewCensor([]string{"ばか"}, '＊')
	require.NoError(t, err)
	require.Equal(t, "これは ＊＊ です", censor.Apply("これは ばか です"))
}

func TestNewCensor_EmptyListDisables(t *testing.T) {
	req := require.New(t)
	censor, err := NewCensor(nil, '*')
	req.NoError(err)
	req.Nil(censor)
	req.Equal("anything goes", censor.Apply("anything goes"))
}
