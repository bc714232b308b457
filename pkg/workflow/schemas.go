package workflow

import "aegisprime/pkg/gateway"

// Response schemas for the structured generation calls. The descriptions
// steer the model toward the expected content of each field.

func pillarSchema(description string) *gateway.Schema {
	s := gateway.Object(map[string]*gateway.Schema{
		"title":       gateway.Str("A concise, catchy title for this pillar (e.g., 'The Seasoned Mentor')."),
		"description": gateway.Str("A detailed explanation of this pillar and its rationale."),
	})
	s.Description = description
	return s
}

func strategySchema() *gateway.Schema {
	return gateway.Object(map[string]*gateway.Schema{
		"persona":  pillarSchema("The AI's persona."),
		"audience": pillarSchema("The target audience for the output."),
		"format":   pillarSchema("The structure and format of the output."),
		"tone":     pillarSchema("The tone and style of the output."),
	})
}

func blueprintSchema() *gateway.Schema {
	s := gateway.Object(map[string]*gateway.Schema{
		"prompt":   gateway.Str("The final, complete, hyper-optimized prompt, ready to be copied and used."),
		"analysis": gateway.Str("A brief analysis of why this prompt is effective, referencing the strategy pillars."),
		"suggestions": gateway.ArrayOf(gateway.Str(""),
			"A list of 2-3 suggestions for how the Director can use or adapt this prompt."),
	})
	// questions is optional: present only when the model needs clarification.
	s.Properties["questions"] = gateway.ArrayOf(gateway.Str(""),
		"Optional clarifying questions for the Director, if the objective left gaps.")
	return s
}

func urlContextSchema() *gateway.Schema {
	return gateway.Object(map[string]*gateway.Schema{
		"url":     gateway.Str("The analyzed URL, echoed back."),
		"title":   gateway.Str("The page's title or a descriptive title for its content."),
		"summary": gateway.Str("A concise summary of the page content."),
		"key_points": gateway.ArrayOf(gateway.Str(""),
			"The key points worth carrying into the prompt-building session."),
		"source_credibility": gateway.Str("A short assessment of the source's credibility."),
	})
}
