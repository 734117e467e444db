package browser

import "regexp"

var noisyBlocks = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<script[^>]*>.*?</script>`),
	regexp.MustCompile(`(?s)<style[^>]*>.*?</style>`),
	regexp.MustCompile(`(?s)<svg[^>]*>.*?</svg>`),
}

// cleanHTML drops script, style and svg blocks so the page fits in a
// response and stays readable.
func cleanHTML(html string) string {
	for _, re := range noisyBlocks {
		html = re.ReplaceAllString(html, "")
	}
	return html
}
