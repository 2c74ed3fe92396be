package extract

import (
	"fmt"
	"strings"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/config"
)

const systemPreamble = `You read official lottery result publications from screenshots and
return structured data. Extract exactly what is printed; never guess,
never compute, never normalize money formatting.

Rules:
1) Return ONE JSON object and nothing else. Any text outside JSON is an error.
2) "winners" values are plain integers (e.g. 3, 0, 17482), never prose or
   currency. If the winner count is not printed, omit the field.
3) Prize and rollover amounts keep the source's literal formatting,
   including currency symbol, separators and decimals (e.g. "R5,804,873.30").
4) Include EVERY prize division visible in the image, not only the top ones.
5) "draw_date" is the draw's calendar date as YYYY-MM-DD.
6) "confidence" is your 0-100 estimate that every extracted field is correct.
7) If a field is not visible, omit it rather than inventing a value.`

// buildSchemaHint renders the response contract for one game so the model
// cannot drift into a different game's shape.
func buildSchemaHint(game string, schema config.GameSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Response schema for game %q:\n{\n", game)
	fmt.Fprintf(&b, "  \"draw_number\": string,            // publisher's sequential draw id\n")
	fmt.Fprintf(&b, "  \"draw_date\": \"YYYY-MM-DD\",\n")
	fmt.Fprintf(&b, "  \"main_numbers\": [int x %d],       // in drawn order\n", schema.MainNumbers)
	if schema.BonusNumbers > 0 {
		fmt.Fprintf(&b, "  \"bonus_numbers\": [int x %d],\n", schema.BonusNumbers)
	} else {
		fmt.Fprintf(&b, "  \"bonus_numbers\": [],             // this game has no bonus ball\n")
	}
	fmt.Fprintf(&b, "  \"divisions\": [                   // all %d tiers when visible\n", schema.Divisions)
	fmt.Fprintf(&b, "    {\"division\": string, \"match\": string, \"winners\": int, \"prize\": string}\n")
	fmt.Fprintf(&b, "  ],\n")
	fmt.Fprintf(&b, "  \"financials\": {\n")
	fmt.Fprintf(&b, "    \"rollover_amount\": string, \"rollover_count\": int,\n")
	fmt.Fprintf(&b, "    \"total_pool\": string, \"total_sales\": string,\n")
	fmt.Fprintf(&b, "    \"next_jackpot\": string, \"machine\": string,\n")
	fmt.Fprintf(&b, "    \"next_draw_date\": \"YYYY-MM-DD\"\n")
	fmt.Fprintf(&b, "  },\n")
	fmt.Fprintf(&b, "  \"confidence\": number             // 0-100\n}\n")
	return b.String()
}

func userPrompt(game string) string {
	return fmt.Sprintf("Extract the published %s draw result from this image. Respond with JSON only.", game)
}
