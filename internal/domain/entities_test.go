package domain

import (
	"testing"
	"time"
)

func TestCountWords(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   \n\t ", 0},
		{"одно", 1},
		{"сегодня был длинный день", 4},
		{"слово,  ещё\nслово\tи ещё", 5},
	}
	for _, tc := range cases {
		if got := CountWords(tc.text); got != tc.want {
			t.Fatalf("CountWords(%q) = %d, ожидалось %d", tc.text, got, tc.want)
		}
	}
}

func TestDayBoundsCoverWholeDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("зона: %v", err)
	}

	at := time.Date(2024, 3, 15, 23, 59, 59, 0, loc)
	from, to := DayBounds(at, loc)

	if !from.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, loc)) {
		t.Fatalf("начало дня: %v", from)
	}
	if !to.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, loc)) {
		t.Fatalf("конец дня: %v", to)
	}
	if !at.Before(to) || at.Before(from) {
		t.Fatalf("момент %v выпал из [%v, %v)", at, from, to)
	}
}

func TestDayBoundsAcrossDSTShift(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err != nil {
		t.Fatalf("зона: %v", err)
	}

	// 31 марта 2024 — переход на летнее время, в дне 23 часа.
	at := time.Date(2024, 3, 31, 12, 0, 0, 0, loc)
	from, to := DayBounds(at, loc)

	if got := to.Sub(from); got != 23*time.Hour {
		t.Fatalf("длина дня при переходе: %v", got)
	}
	if !DayStart(to.Add(-time.Second), loc).Equal(from) {
		t.Fatalf("последняя секунда дня должна принадлежать тому же дню")
	}
}

func TestClassifyChat(t *testing.T) {
	const shared = int64(-100500)

	if got := ClassifyChat(42, shared, true, false); got != EventPrivate {
		t.Fatalf("личный чат: %v", got)
	}
	if got := ClassifyChat(shared, shared, false, false); got != EventShared {
		t.Fatalf("общий чат: %v", got)
	}
	if got := ClassifyChat(-200, shared, false, true); got != EventJournal {
		t.Fatalf("журнальный чат: %v", got)
	}
	if got := ClassifyChat(-300, shared, false, false); got != EventOther {
		t.Fatalf("посторонний чат: %v", got)
	}
}
