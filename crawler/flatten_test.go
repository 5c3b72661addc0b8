package crawler

import "testing"

// TestFlatten verifies HTML fragments collapse to readable plain text.
func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "br becomes newline",
			in:   "שופצה לאחרונה<br>מרפסת שמש",
			want: "שופצה לאחרונה\nמרפסת שמש",
		},
		{
			name: "consecutive br collapse",
			in:   "קומה 3<br><br><br>כניסה מיידית",
			want: "קומה 3\nכניסה מיידית",
		},
		{
			name: "inline markup dropped",
			in:   "<b>משופצת</b> וגדולה",
			want: "משופצת וגדולה",
		},
		{
			name: "paragraphs become lines",
			in:   "<p>ראשון</p><p>שני</p>",
			want: "ראשון\nשני",
		},
		{
			name: "sibling divs become lines",
			in:   "<div>א</div><div>ב</div>",
			want: "א\nב",
		},
		{
			name: "list items become lines",
			in:   "<ul><li>מרפסת</li><li>מעלית</li></ul>",
			want: "מרפסת\nמעלית",
		},
		{
			name: "entities decoded",
			in:   "<div>&amp; דירה</div>",
			want: "& דירה",
		},
		{
			name: "plain text passthrough",
			in:   "  דירה   יפה  ",
			want: "דירה יפה",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
		{
			name: "markup only",
			in:   "<br><br>",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Flatten(tt.in); got != tt.want {
				t.Errorf("Flatten(%q): expected %q, got %q", tt.in, tt.want, got)
			}
		})
	}
}
