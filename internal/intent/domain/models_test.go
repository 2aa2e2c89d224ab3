package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     Status
		err      error
	}{
		{StatusCreated, StatusRequiresAction, StatusRequiresAction, nil},
		{StatusCreated, StatusAuthorized, StatusAuthorized, nil},
		{StatusRequiresAction, StatusAuthorized, StatusAuthorized, nil},
		{StatusRequiresAction, StatusCanceled, StatusCanceled, nil},
		{StatusCreated, StatusExpired, StatusExpired, nil},
		{StatusAuthorized, StatusAuthorized, StatusAuthorized, ErrIllegalTransition},
		{StatusAuthorized, StatusCanceled, StatusAuthorized, ErrIllegalTransition},
		{StatusCanceled, StatusAuthorized, StatusCanceled, ErrIllegalTransition},
		{StatusRequiresAction, StatusCreated, StatusRequiresAction, ErrIllegalTransition},
		{StatusRequiresAction, StatusRequiresAction, StatusRequiresAction, ErrIllegalTransition},
		{Status("BOGUS"), StatusAuthorized, Status("BOGUS"), ErrUnknownStatus},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.to)
		assert.Equal(t, tc.want, got, "%s -> %s", tc.from, tc.to)
		assert.ErrorIs(t, err, tc.err, "%s -> %s", tc.from, tc.to)
	}
}

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("")
	assert.NoError(t, err)
	assert.Equal(t, ProviderMock, p)

	p, err = ParseProvider(" tazapay ")
	assert.NoError(t, err)
	assert.Equal(t, ProviderTazapay, p)

	_, err = ParseProvider("stripe")
	assert.ErrorIs(t, err, ErrInvalidProvider)
}
