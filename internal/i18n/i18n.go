package i18n

import (
	"strings"
	"sync"

	"github.com/iamwavecut/ngtrust/resources"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const translationsPath = "i18n/translations.yml"

// Keys are the English texts; each maps locale (upper-case) to its translation.
var state = struct {
	once         sync.Once
	translations map[string]map[string]string
}{}

func load() {
	state.translations = make(map[string]map[string]string)
	content, err := resources.FS.ReadFile(translationsPath)
	if err != nil {
		log.WithField("error", err.Error()).Errorln("cant load i18n")
		return
	}
	if err := yaml.Unmarshal(content, &state.translations); err != nil {
		log.WithField("error", err.Error()).Errorln("cant unmarshal i18n")
	}
}

// Get returns the translation of key into lang, or key itself for English and for
// missing translations.
func Get(key, lang string) string {
	if lang == "" || strings.EqualFold(lang, "en") {
		return key
	}
	state.once.Do(load)
	if res, ok := state.translations[key][strings.ToUpper(lang)]; ok && res != "" {
		return res
	}
	log.Tracef(`no translation for key "%s"`, key)
	return key
}
