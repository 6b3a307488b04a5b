package classify

import "github.com/avykov/telescan/internal/store"

// Shared footer several job channels append to every post.
const itJobFooter = `⬇️ Другие каналы IT-вакансий:\s*@best_itjob\s*@it_rab`

// DefaultWhitelist is the validity vocabulary applied when a source rule
// does not override it.
func DefaultWhitelist() []string {
	return []string{
		"вакансия", "вакансию", "работа", "ищем", "требуется", "зарплата",
		"резюме", "vacancy", "job", "hiring", "remote", "resume",
	}
}

// DefaultRules is the built-in per-source table. Sources absent here get
// default behavior: whitelist validity, no cleanup, no semantic type.
func DefaultRules() []Rule {
	return []Rule{
		// QA - резюме
		{SourceID: 1420354620, FixedType: store.TypeResume},
		// Devops Jobs - вакансии и резюме
		{SourceID: 1134745498, StripPatterns: []string{`@devops_jobs`}},
		// UI/UX Jobs | Работа | Вакансии | Удалёнка
		{SourceID: 1796231867, FixedType: store.TypeVacancy},
		// Вакансии для системных администраторов, DevOps
		{SourceID: 1603073695, FixedType: store.TypeVacancy},
		// Test HHGRAM #2
		{SourceID: 4754755689, StripPatterns: []string{itJobFooter}},
		// UX UI design - вакансии и резюме
		{
			SourceID:    1161968805,
			VacancyTags: []string{"#вакансия", "#vacancy"},
			ResumeTags:  []string{"#резюме", "#resume"},
		},
		// QA - вакансии
		{SourceID: 1089317451, FixedType: store.TypeVacancy},
		// Вакансии SMM и Digital
		{SourceID: 1101692370, FixedType: store.TypeVacancy},
		// IT Jobs | Вакансии в IT
		{SourceID: 1336250861, FixedType: store.TypeVacancy, StripPatterns: []string{itJobFooter}},
		// Вакансии для продактов и проджектов
		{SourceID: 1205373966, FixedType: store.TypeVacancy},
		// Вакансии Backend/Frontend
		{SourceID: 1102268569, VacancyTags: []string{"#вакансия", "#vacancy", "#работа", "#job"}},
		// Топ IT Вакансии {Разработка | DevOps | QA | Management}
		{SourceID: 1262748732, FixedType: store.TypeVacancy},
		// Работа в геймдеве (вакансии)
		{SourceID: 1454158341, FixedType: store.TypeVacancy},
	}
}
