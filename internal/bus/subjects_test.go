package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSubject(t *testing.T) {
	subj, marketID := ParseSubject("order.create")
	assert.Equal(t, SubjectOrderCreate, subj)
	assert.Empty(t, marketID)

	subj, marketID = ParseSubject("order.cancel")
	assert.Equal(t, SubjectOrderCancel, subj)
	assert.Empty(t, marketID)

	subj, marketID = ParseSubject("market.book.update.abc-123")
	assert.Equal(t, SubjectMarketBookUpdate, subj)
	assert.Equal(t, "abc-123", marketID)

	subj, _ = ParseSubject("something.else")
	assert.Equal(t, SubjectUnknown, subj)
}

func TestBookUpdateSubject(t *testing.T) {
	assert.Equal(t, "market.book.update.abc-123", BookUpdateSubject("abc-123"))
}

func TestSubjectString(t *testing.T) {
	assert.Equal(t, "order.create", SubjectOrderCreate.String())
	assert.Equal(t, "order.cancel", SubjectOrderCancel.String())
	assert.Equal(t, "market.book.update", SubjectMarketBookUpdate.String())
	assert.Equal(t, "unknown", SubjectUnknown.String())
}
