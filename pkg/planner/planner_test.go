package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podscript/pkg/model"
)

func doc(text string) model.Document {
	return model.Document{Text: text, Length: len(text), Format: model.FormatText}
}

func para(topic string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString("This sentence talks about ")
		sb.WriteString(topic)
		sb.WriteString(" in some depth. ")
	}
	return strings.TrimSpace(sb.String())
}

func TestPlan_Reassembly(t *testing.T) {
	text := strings.Join([]string{
		para("glaciers", 6),
		para("volcanoes", 4),
		para("earthquakes", 8),
		para("tides", 5),
		para("storms", 7),
	}, "\n\n")

	for _, n := range []int{1, 2, 3, 4, 5, 9} {
		segments, err := Plan(doc(text), n)
		require.NoError(t, err, "count %d", n)
		require.NotEmpty(t, segments)
		assert.LessOrEqual(t, len(segments), max(n, 1))

		var sb strings.Builder
		for i, seg := range segments {
			assert.Equal(t, i, seg.Index)
			assert.NotEmpty(t, strings.TrimSpace(seg.Text))
			sb.WriteString(seg.Text)
		}
		assert.Equal(t, text, sb.String(), "count %d must reassemble exactly", n)
	}
}

func TestPlan_SingleSegment(t *testing.T) {
	text := para("weather", 3)
	segments, err := Plan(doc(text), 1)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, text, segments[0].Text)
	assert.NotEmpty(t, segments[0].Label)
}

func TestPlan_DegradesWhenTooFewParagraphs(t *testing.T) {
	text := para("bees", 4) + "\n\n" + para("honey", 4)

	segments, err := Plan(doc(text), 5)
	require.NoError(t, err)
	assert.Len(t, segments, 2, "two paragraphs cannot make five segments")

	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString(seg.Text)
	}
	assert.Equal(t, text, sb.String())
}

func TestPlan_SentenceFallbackForSingleParagraph(t *testing.T) {
	text := para("rivers", 6)

	segments, err := Plan(doc(text), 3)
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1, "single paragraph should split at sentence boundaries")

	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString(seg.Text)
	}
	assert.Equal(t, text, sb.String())
}

func TestPlan_EmptyDocument(t *testing.T) {
	_, err := Plan(doc(""), 2)
	require.Error(t, err)
	var inputErr *model.InputError
	assert.ErrorAs(t, err, &inputErr)

	_, err = Plan(doc("   \n\t "), 2)
	assert.Error(t, err)
}

func TestPlan_InvalidCount(t *testing.T) {
	_, err := Plan(doc("some text"), 0)
	require.Error(t, err)
	var inputErr *model.InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestPlan_BoundariesNearEvenDivision(t *testing.T) {
	// Ten equal paragraphs split in two should cut at the midpoint.
	paras := make([]string, 10)
	for i := range paras {
		paras[i] = para("topic", 2)
	}
	text := strings.Join(paras, "\n\n")

	segments, err := Plan(doc(text), 2)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	ratio := float64(len(segments[0].Text)) / float64(len(text))
	assert.InDelta(t, 0.5, ratio, 0.15, "first segment should hold about half the text")
}

func TestLabelFor_Heading(t *testing.T) {
	assert.Equal(t, "The Water Cycle", labelFor("# The Water Cycle\nRain falls."))
	assert.Equal(t, "Background", labelFor("Background:\nLong ago..."))
	assert.Equal(t, "Methods", labelFor("2. Methods\nWe measured things."))
}

func TestLabelFor_Keywords(t *testing.T) {
	label := labelFor(para("glaciers", 5))
	assert.Contains(t, label, "glaciers")
	assert.NotContains(t, label, "sentence", "discourse words must not crowd out the topic")
	assert.NotContains(t, label, "talks")
}

func TestTopKeywords_Deterministic(t *testing.T) {
	text := para("otters", 3) + " " + para("rivers", 3)
	first := topKeywords(text, 2)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, topKeywords(text, 2))
	}
}

func TestSuggestParts(t *testing.T) {
	small := doc(para("tea", 3))
	assert.Equal(t, 1, SuggestParts(small, 8192))

	big := doc(strings.Repeat(para("history", 10)+"\n\n", 80))
	parts := SuggestParts(big, 1024)
	assert.Greater(t, parts, 1)
	assert.LessOrEqual(t, parts, 8)
}
