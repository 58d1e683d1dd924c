package config

import (
	"fmt"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

const managerZoneListing = "https://www.managerzone.com/?p=forum&sub=topics&forum_id=%s&sport=soccer"

var defaultForumNames = []struct {
	id   string
	name string
}{
	{"125", "🇵🇹 Português(Portugal)\nManagerZone Talk"},
	{"126", "🇵🇹 Português(Portugal)\nPerguntas e Respostas"},
	{"388", "🇵🇹 Português(Portugal)\nDiscussão sobre as Selecções Nacionais"},
	{"47", "🇧🇷 Português(Brasil)\nManagerZone talk"},
	{"49", "🇧🇷 Português(Brasil)\nPerguntas & Respostas"},
	{"253", "🇦🇷 Español(Latinoamerica)\nManagerZone Habla"},
	{"255", "🇦🇷 Español(Latinoamerica)\nPreguntas y Respuestas"},
	{"10", "🇬🇧 English\nManagerZone Talk"},
	{"12", "🇬🇧 English\nQuestions & Answers"},
	{"387", "🇬🇧 English\nSimulator Development Feedback"},
	{"318", "🇨🇳 Chinese\n1 新手及疑问解答 Newbie and Q&A"},
	{"316", "🇨🇳 Chinese\n2 游戏热点以及官方杯赛讨论 MZ Talk"},
	{"19", "🇪🇸 Español(España)\nManagerZone habla"},
	{"21", "🇪🇸 Español(España)\nPreguntas y Respuestas"},
	{"26", "🇵🇱 Polski\nRozmowy ManagerZone [MZ Talk]"},
	{"25", "🇵🇱 Polski\nPytania i Odpowiedzi [Q&A]"},
	{"1", "🇸🇪 Svenska\nAllmänt om ManagerZone [MZ Talk]"},
	{"4", "🇸🇪 Svenska\nFrågor & Svar [Q&A]"},
	{"90", "🇹🇷 Türkçe\nManagerZone muhabbetleri [MZ Talk]"},
	{"91", "🇹🇷 Türkçe\nSorular & Cevaplar [Q&A]"},
	{"9", "🇬🇧 English\nTransfers & Market"},
	{"249", "🇦🇷 Español(Latinoamerica)\nMercado de Jugadores"},
}

// DefaultForums returns the ManagerZone soccer forums watched when the
// configuration lists none.
func DefaultForums() []watcher.Forum {
	forums := make([]watcher.Forum, 0, len(defaultForumNames))
	for _, f := range defaultForumNames {
		forums = append(forums, watcher.Forum{
			ID:   f.id,
			URL:  fmt.Sprintf(managerZoneListing, f.id),
			Name: f.name,
		})
	}
	return forums
}
