package tg

import (
	"github.com/zelenin/go-tdlib/client"
)

// DeviceConfig задаёт, как аккаунт представляется серверам Telegram.
// Пустые поля заменяются значениями по умолчанию.
type DeviceConfig struct {
	DeviceModel   string
	SystemVersion string
	AppVersion    string
	LangCode      string
}

func (d DeviceConfig) withDefaults() DeviceConfig {
	if d.LangCode == "" {
		d.LangCode = "en"
	}
	if d.SystemVersion == "" {
		d.SystemVersion = "Windows 10"
	}
	if d.AppVersion == "" {
		d.AppVersion = "2.0"
	}
	if d.DeviceModel == "" {
		d.DeviceModel = "Desktop"
	}
	return d
}

func (d DeviceConfig) toTdParams(apiID int32, apiHash string, dbDir, filesDir string) *client.SetTdlibParametersRequest {
	d = d.withDefaults()

	return &client.SetTdlibParametersRequest{
		UseTestDc:           false,
		DatabaseDirectory:   dbDir,
		FilesDirectory:      filesDir,
		UseFileDatabase:     false,
		UseChatInfoDatabase: true,
		UseMessageDatabase:  false,
		UseSecretChats:      false,
		ApiId:               apiID,
		ApiHash:             apiHash,
		SystemLanguageCode:  d.LangCode,
		DeviceModel:         d.DeviceModel,
		SystemVersion:       d.SystemVersion,
		ApplicationVersion:  d.AppVersion,
	}
}
