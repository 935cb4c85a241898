// 包 version：构建时通过 -ldflags "-X geo-drill/internal/version.Commit=..." 注入
package version

var Commit = "dev"
