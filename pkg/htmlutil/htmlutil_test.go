package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestTextAndHref(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<div id="a">  Court
			Location:<br>  <b>Old City Hall</b> </div>
		<div id="b"><a href="/courts/oldcityhall">Old City Hall</a></div>
	`))
	require.NoError(t, err)

	require.Equal(t, "Court Location: Old City Hall", Text(doc.Find("#a")))
	require.Equal(t, "", Text(doc.Find("#missing")))

	base, err := url.Parse("https://secure.toronto.ca/webapps/parking/")
	require.NoError(t, err)
	require.Equal(t, "https://secure.toronto.ca/courts/oldcityhall", Href(doc.Find("#b"), base))
	require.Equal(t, "/courts/oldcityhall", Href(doc.Find("#b a"), nil))
	require.Equal(t, "", Href(doc.Find("#a"), base))
}
