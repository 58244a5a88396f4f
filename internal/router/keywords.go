package router

import "regexp"

// statusQueryPatterns are questions answerable from stored state alone.
// They are only consulted for short inputs.
var statusQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(what'?s|what is) (the )?(status|queue)\b`),
	regexp.MustCompile(`^status( update| report)?\b`),
	regexp.MustCompile(`^(how many|any) (jobs|tasks|failures|failed jobs)\b`),
	regexp.MustCompile(`^(what'?s|what is|who'?s|who is) (running|working|stuck|stalled)\b`),
	regexp.MustCompile(`^(list|show)( me)? (the )?(jobs|tasks|agents|queue|notifications|boards)\b`),
	regexp.MustCompile(`^(is|are) (anything|any jobs|the scheduler) (running|paused|stuck)\b`),
}

// confirmationPatterns must cover the whole message. A confirmation that
// carries further instructions is not a confirmation. Words that grant
// permission to act belong in actionVerbPatterns instead.
var confirmationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(yes|yep|yeah|yup|y|no|nope|nah|ok|okay|k|sure|thanks|thank you|thx|cool|great|nice|perfect|got it|sounds good|lgtm|agreed)( (thanks|thank you|please))?[\s.!]*$`),
	regexp.MustCompile(`^(👍|✅|🙏|👌)+\s*$`),
}

// actionVerbPatterns signal that the reply may need to emit action
// directives.
var actionVerbPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(create|build|deploy|launch|ship|spawn|schedule|assign|delegate|publish|send|draft|kick off|set up|setup|start|run|requeue|retry|cancel|decide|approved?|confirm(ed)?|go ahead|do it|reject|enqueue|queue up)\b`),
}

// analysisPatterns signal work that needs the capable model.
var analysisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(analy[sz]e|analysis|compare|comparison|evaluate|assess|audit|investigate|research|strategy|strategic|forecast|plan|roadmap|trade-?offs?|pros and cons|root cause|why)\b`),
	regexp.MustCompile(`https?://\S+`),
}

func matchAny(patterns []*regexp.Regexp, s string) (bool, string) {
	for _, p := range patterns {
		if m := p.FindString(s); m != "" {
			return true, m
		}
	}
	return false, ""
}
