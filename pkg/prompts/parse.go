package prompts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// noFactMarkers are replies the extract stage may use for "nothing
// found"; each parses to an empty fact list.
var noFactMarkers = map[string]bool{
	"NONE":     true,
	"NO FACTS": true,
}

// bulletFields strips the "- " bullet and splits the remainder into at
// most n Sep-separated fields. Returns nil for non-bullet lines.
func bulletFields(line string, n int) []string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "- ") {
		return nil
	}
	return strings.SplitN(strings.TrimSpace(line[2:]), Sep, n)
}

// ParseFacts parses the extract stage's reply. Lines that do not follow
// the grammar are skipped; an empty reply or a no-fact marker yields an
// empty list.
func ParseFacts(reply string) []Fact {
	reply = strings.TrimSpace(reply)
	if reply == "" || noFactMarkers[strings.ToUpper(reply)] {
		return nil
	}

	var facts []Fact
	for _, line := range strings.Split(reply, "\n") {
		fields := bulletFields(line, 3)
		if len(fields) != 3 {
			continue
		}
		topic := strings.TrimSpace(fields[0])
		subTopic := strings.TrimSpace(fields[1])
		memo := strings.TrimSpace(fields[2])
		if topic == "" || subTopic == "" || memo == "" {
			continue
		}
		facts = append(facts, Fact{Topic: topic, SubTopic: subTopic, Memo: memo})
	}
	return facts
}

// ParseMergeAction parses the merge stage's reply into its tagged
// verdict. Any reply outside the grammar is ErrParseFailure.
func ParseMergeAction(reply string) (MergeAction, error) {
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		fields := bulletFields(line, 2)
		if fields == nil {
			continue
		}
		verb := strings.ToUpper(strings.TrimSpace(fields[0]))
		switch verb {
		case "UPDATE":
			if len(fields) != 2 || strings.TrimSpace(fields[1]) == "" {
				return MergeAction{}, fmt.Errorf("%w: UPDATE without memo", services.ErrParseFailure)
			}
			return MergeAction{Outcome: MergeUpdate, Memo: strings.TrimSpace(fields[1])}, nil
		case "ABORT":
			return MergeAction{Outcome: MergeAbort}, nil
		}
	}
	return MergeAction{}, fmt.Errorf("%w: no merge verdict in reply", services.ErrParseFailure)
}

// ParseSubTopics parses the organize stage's reply. Lines outside the
// grammar are skipped.
func ParseSubTopics(reply string) []SubTopicMemo {
	var out []SubTopicMemo
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		fields := bulletFields(line, 2)
		if len(fields) != 2 {
			continue
		}
		subTopic := strings.TrimSpace(fields[0])
		memo := strings.TrimSpace(fields[1])
		if subTopic == "" || memo == "" {
			continue
		}
		out = append(out, SubTopicMemo{SubTopic: subTopic, Memo: memo})
	}
	return out
}

// ParseTags parses the event-tag stage's reply. Lines outside the
// grammar are skipped; filtering against the declared taxonomy is the
// caller's job.
func ParseTags(reply string) []TagValue {
	var out []TagValue
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		fields := bulletFields(line, 2)
		if len(fields) != 2 {
			continue
		}
		tag := strings.TrimSpace(fields[0])
		value := strings.TrimSpace(fields[1])
		if tag == "" || value == "" {
			continue
		}
		out = append(out, TagValue{Tag: tag, Value: value})
	}
	return out
}

// ParsePickedIndices parses the slot-picking reply: one bullet per
// selected index. A reply with no valid bullet is ErrParseFailure so the
// caller can fall back to the unfiltered selection.
func ParsePickedIndices(reply string, max int) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		fields := bulletFields(line, 1)
		if len(fields) != 1 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || n < 0 || n >= max || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no slot indices in reply", services.ErrParseFailure)
	}
	return out, nil
}
