package utilfuncs

import (
	"github.com/sirupsen/logrus"
)

// PanicIfError stops the process when a startup step fails.
func PanicIfError(err error, message string) {
	if err != nil {
		logrus.WithError(err).Fatal(message)
	}
}
