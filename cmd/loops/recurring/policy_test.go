package recurring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fleetforge/fleetforge/cmd/loops/recurring"
	"github.com/fleetforge/fleetforge/pkg/utils/loop"
)

func TestParsePolicy(t *testing.T) {
	for name, testcase := range map[string]struct {
		when        string
		then        recurring.Policy
		expectError bool
	}{
		"forever means forever": {
			when: "forever",
			then: recurring.Forever(0),
		},
		"forever:3s means forever with cooldown 3 seconds": {
			when: "forever:3s",
			then: recurring.Forever(3 * time.Second),
		},
		"forever:someday can not be parsed (someday is not time.Duration)": {
			when:        "forever:someday",
			expectError: true,
		},
		"backlog means backlog": {
			when: "backlog",
			then: recurring.Backlog(),
		},
		"backlog:param can not be parsed (it should not take any parameters)": {
			when:        "backlog:param",
			expectError: true,
		},
		"empty string can not be parsed (it is not policy)": {
			when:        "",
			expectError: true,
		},
		"unknown policy can not be parsed (it is not policy)": {
			when:        "???????unknown??????",
			expectError: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			when, expected := testcase.when, testcase.then
			actual, err := recurring.ParsePolicy(when)

			if testcase.expectError {
				if err == nil {
					t.Fatal("expected error does not occured")
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}

			if actual != expected {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, expected)
			}
		})
	}
}

func TestPolicy_Next(t *testing.T) {
	fakeErr := errors.New("fake error")

	for name, testcase := range map[string]struct {
		testee  recurring.Policy
		updated bool
		err     error
		then    loop.Next
	}{
		"forever continues immediately while there is backlog": {
			testee:  recurring.Forever(3 * time.Second),
			updated: true,
			then:    loop.Continue(0),
		},
		"forever cools down when there is nothing to do": {
			testee: recurring.Forever(3 * time.Second),
			then:   loop.Continue(3 * time.Second),
		},
		"backlog continues immediately while there is backlog": {
			testee:  recurring.Backlog(),
			updated: true,
			then:    loop.Continue(0),
		},
		"backlog breaks when there is nothing to do": {
			testee: recurring.Backlog(),
			then:   loop.Break(nil),
		},
		"until-error passes non-error cycles to its base": {
			testee:  recurring.UntilError(recurring.Forever(3 * time.Second)),
			updated: true,
			then:    loop.Continue(0),
		},
		"until-error breaks with the error": {
			testee:  recurring.UntilError(recurring.Forever(3 * time.Second)),
			updated: true,
			err:     fakeErr,
			then:    loop.Break(fakeErr),
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual := testcase.testee.Next(testcase.updated, testcase.err)
			if actual != testcase.then {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, testcase.then)
			}
		})
	}
}
