package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forum-comms/internal/models"
)

func TestRenderEmail(t *testing.T) {
	tests := []struct {
		name        string
		typ         models.NotificationType
		data        TemplateData
		subject     string
		contains    []string
		notContains []string
	}{
		{
			name:     "follow",
			typ:      models.TypeFollow,
			data:     TemplateData{RecipientName: "Sam", ProfileURL: "https://forum.test/investors/70"},
			subject:  "Forum: New Follower",
			contains: []string{"Hello, Sam", "Another investor has started following you.", "https://forum.test/investors/70", "Thank you for choosing Forum!"},
		},
		{
			name:     "update",
			typ:      models.TypeUpdate,
			data:     TemplateData{RecipientName: "Ivy", StartupName: "Acme"},
			subject:  "Forum: Startup Profile Update",
			contains: []string{"Startup Profile [Acme] you are following has new updates."},
		},
		{
			name:        "message without profile link",
			typ:         models.TypeMessage,
			data:        TemplateData{RecipientName: "Sam", SenderName: "Ada Lovelace"},
			subject:     "Forum: New Message",
			contains:    []string{"You have a new message from Ada Lovelace."},
			notContains: []string{"View profile"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := RenderEmail(tt.typ, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.subject, email.Subject)
			for _, s := range tt.contains {
				assert.Contains(t, email.Text, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, email.Text, s)
				assert.NotContains(t, email.HTML, s)
			}
		})
	}
}

func TestRenderEmail_EscapesHTML(t *testing.T) {
	email, err := RenderEmail(models.TypeMessage, TemplateData{RecipientName: "Sam", SenderName: "<script>x</script>"})

	require.NoError(t, err)
	assert.Contains(t, email.Text, "<script>x</script>")
	assert.NotContains(t, email.HTML, "<script>")
	assert.Contains(t, email.HTML, "&lt;script&gt;")
}

func TestRenderEmail_UnknownType(t *testing.T) {
	_, err := RenderEmail(models.NotificationType(99), TemplateData{})
	assert.Error(t, err)
}
