package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		cmd  Command
		kind Kind
		args []string
		noop bool
	}{
		{Scene{Name: "evening"}, KindScene, []string{"evening"}, false},
		{Scene{Name: "report"}, KindScene, nil, false},
		{Scene{Name: "void"}, KindScene, []string{"void"}, true},
		{Scene{}, KindScene, []string{""}, true},
		{Solar{Mode: SolarDischarge, Value: 40}, KindSolar, []string{"discharge", "40"}, false},
		{Alarm{Time: "06:30"}, KindAlarm, []string{"06:30"}, false},
		{Water{HoldMinutes: 15}, KindWater, []string{"15"}, false},
		{Free{Date: "friday"}, KindFree, []string{"friday"}, false},
		{Free{}, KindFree, []string{""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.cmd.Kind())
			assert.Equal(t, tt.args, tt.cmd.Args())
			assert.Equal(t, tt.noop, tt.cmd.Noop())
		})
	}
}
