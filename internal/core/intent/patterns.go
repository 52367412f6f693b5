package intent

import "regexp"

var emergencyPatterns = compileAll(
	`\b(stop|halt|kill|abort)\b`,
	`\b(emergency|urgent|asap|right now|immediately)\b`,
	`\b(something.s wrong|broken|crashed|not working|it.s down)\b`,
	`\b(fix this now|fix it now|undo|revert|rollback)\b`,
	`(\bhelp!|\bsos\b)`,
	`\b(stop everything|cancel everything|shut down|shut it down)\b`,
)

var taskPatterns = compileAll(
	`\b(create|build|make|write|generate|design|scaffold|bootstrap|draft)\b`,
	`\b(deploy|install|setup|set up|configure|provision|launch|spin up)\b`,
	`\b(search|find|look up|lookup|check|scan|analyze|compare|research)\b`,
	`\b(send|email|message|notify|alert|remind|schedule|invite)\b`,
	`\b(organize|clean|move|copy|delete|rename|compress|extract|backup)\b`,
	`\b(book|order|buy|purchase|subscribe|sign up|register|reserve)\b`,
	`\b(track|monitor|watch|follow|alert me|keep an eye)\b`,
	`\b(refactor|debug|test|run|execute|compile|lint|format)\b`,
	`\b(download|upload|transfer|sync|import|export|migrate)\b`,
	`\b(update|upgrade|change|modify|edit|add|remove|fix|patch)\b`,
	`\b(plan|outline|break down|decompose|prioritize|roadmap|summarize)\b`,
)

var quickPatterns = compileAll(
	`^(what|when|where|who|how|which|why|is|are|do|does|did|can|could|will|would)\b`,
	`\b(what time|what day|weather|temperature|status|count|show me|list)\b`,
	`\b(how much|how many|how long|how far|how old)\b`,
	`\?$`,
)

var conversationPatterns = compileAll(
	`^(hey|hi|hello|yo|sup|what.s up|how are you|how.s it going)[\s!?,.]*`,
	`^(good morning|good night|good evening|gm|gn|morning)[\s!?,.]*`,
	`^(thanks|thank you|ty|thx|appreciate|grateful)[\s!?,.]*`,
	`^(good job|nice work|well done|perfect|great|awesome|amazing|impressive)[\s!?,.]*`,
	`^(lol|lmao|haha|funny|hilarious)`,
	`^(what do you think|your opinion|thoughts on|recommend|suggest)\b`,
	`^(tell me about|explain|describe|define)\b`,
	`^(i think|i feel|i want|i need|i like|i hate|i love|i wish)\b`,
	`^(who are you|what are you|what can you do|your name)\b`,
)

var followUpPatterns = compileAll(
	`^(did it|was it|how did|what happened|did that|and\?|so\?|result|status|update)`,
	`\b(that|those|these|the one|the thing|what you|from before|from earlier|the last)\b`,
	`^(try again|retry|do it again|one more time|keep going|continue|go on|next)\b`,
	`^(what about|how about|any update|progress|done yet|finished|ready)\b`,
	`^(now|then|after that|next step|what.s next)\b`,
)

// Acknowledgments must match the whole message.
var acknowledgmentPatterns = compileAll(
	`^(ok|okay|k|kk|sure|yep|yeah|yes|ya|yea)[\s!.]*$`,
	`^(got it|sounds good|perfect|great|nice|cool|bet|aight|alright|word)[\s!.]*$`,
	`^(go for it|do it|go ahead|proceed|lgtm|looks good|approved|confirmed)[\s!.]*$`,
	`^(roger|copy|affirmative|10-4|understood|ack)[\s!.]*$`,
	`^(👍|✅|🫡|💯|🤝|👌|🙏|💪|🔥|✌️)\s*$`,
	`^(thats? (fine|good|great|perfect|cool))[\s!.]*$`,
	`^(ok|okay|yeah|yes|sure|yep|ya)[\s,.]*(go ahead|do it|go for it|proceed|sounds good|perfect|great|lets go|let.s go)[\s!.]*$`,
)

type domainPatterns struct {
	name     string
	patterns []*regexp.Regexp
}

// Order is the order domains are reported in.
var domainTable = []domainPatterns{
	{"flights", compileAll(
		`\b(flight|flights|fly|flying|airline|airport|travel|trip|layover)\b`,
		`\b(depart|departure|arrival|arrive|round.?trip|one.?way)\b`,
		`\b(cheapest|nonstop|business class|economy|first class)\b`,
		`\b(book|booking|ticket|fare|baggage|boarding)\b`,
		`\b(track.*price|price.*drop|alert.*price|price.*alert)\b`,
	)},
	{"email", compileAll(
		`\b(email|e-mail|inbox|outbox|send.*mail|mail.*send)\b`,
		`\b(attachment|attach|forward|reply|cc|bcc|subject)\b`,
		`\b(smtp|outlook|gmail)\b`,
	)},
	{"dev", compileAll(
		`\b(code|coding|program|programming|developer|development)\b`,
		`\b(git|github|repo|repository|commit|push|pull|branch|merge)\b`,
		`\b(prd|feature|bug|issue|refactor|api|endpoint|database)\b`,
		`\b(react|vue|angular|node|python|typescript|javascript|rust|golang)\b`,
		`\b(vscode|vs code|ide|editor|debug|debugger|test|jest|pytest)\b`,
		`\b(docker|kubernetes|ci.?cd|pipeline|deploy|server|cloud)\b`,
	)},
	{"browser", compileAll(
		`\b(browse|browser|chrome|website|web page|signup|sign.?up)\b`,
		`\b(login|log.?in|account|password|captcha|form)\b`,
		`\b(click|navigate|open.*page|go to|visit)\b`,
	)},
	{"research", compileAll(
		`\b(research|investigate|deep.?dive|analyze|report|compare)\b`,
		`\b(find.*(info|information|details|data|specs|reviews))\b`,
		`\b(review|benchmark|comparison|versus|vs)\b`,
	)},
	{"files", compileAll(
		`\b(file|files|folder|directory|organize|clean up|desktop)\b`,
		`\b(compress|zip|unzip|extract|archive)\b`,
		`\b(rename|move|copy|delete|trash)\b`,
	)},
	{"system", compileAll(
		`\b(volume|brightness|dark mode|notification|screenshot)\b`,
		`\b(battery|disk|storage|memory|cpu|process)\b`,
		`\b(app|application|settings|preferences)\b`,
		`\b(calendar|reminder|note|notes)\b`,
	)},
	{"finance", compileAll(
		`\b(stock|stocks|ticker|portfolio|invest|investment|crypto|bitcoin|shares|dividend|earnings)\b`,
		`\b(budget|expense|expenses|invoice|bank|payment|salary|tax|taxes|refund)\b`,
	)},
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

var urgencyPatterns = []weightedPattern{
	{regexp.MustCompile(`\b(asap|right now|immediately|urgent|urgently|emergency)\b`), 0.9},
	{regexp.MustCompile(`\b(now|quickly|hurry)\b`), 0.7},
	{regexp.MustCompile(`\b(today|tonight|this morning|this afternoon|this evening)\b`), 0.5},
	{regexp.MustCompile(`\b(soon|shortly|tomorrow)\b`), 0.4},
	{regexp.MustCompile(`\b(quick|fast)\b`), 0.3},
	{regexp.MustCompile(`\b(whenever|no rush|no hurry|eventually|sometime)\b`), 0.1},
}

var (
	pipelinePattern  = regexp.MustCompile(`\b(and then|then|after that|once|finally|afterwards|followed by|next)\b`)
	technicalPattern = regexp.MustCompile(`\b(api|database|deploy|docker|kubernetes|server|script|pipeline|integration|authentication|schema|migration|backend|frontend|algorithm)\b`)

	// Emoji and symbols are dropped before scoring; letters from any script stay.
	cleanPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s?.!,'\-/]`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
