package core

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/RecoveryAshes/RepoCrawl/internal/models"
	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

// RepositorySource 仓库输入源
// 返回按星数过滤并按URL去重后的仓库列表
type RepositorySource interface {
	Load(starThreshold int) ([]models.InputRepository, error)
}

// FileSource 基于JSON文件的输入源
// 每个文件为按语言分组的仓库集合
type FileSource struct {
	paths []string
}

// NewFileSource 创建文件输入源
func NewFileSource(paths []string) *FileSource {
	return &FileSource{paths: paths}
}

// Load 加载全部输入文件,过滤并去重
// 低于星数阈值的仓库静默跳过,不计入任何计数
func (s *FileSource) Load(starThreshold int) ([]models.InputRepository, error) {
	seen := make(map[string]bool)
	repos := make([]models.InputRepository, 0)

	for _, path := range s.paths {
		data, err := loadInputFile(path)
		if err != nil {
			return nil, err
		}

		for _, repo := range data.Repositories {
			if repo.Stars < starThreshold {
				continue
			}
			if err := models.ValidateRepoURL(repo.URL); err != nil {
				utils.Warnf("跳过无效仓库URL %q: %v", repo.URL, err)
				continue
			}
			if seen[repo.URL] {
				continue
			}
			seen[repo.URL] = true
			repos = append(repos, repo)
		}
	}

	utils.Infof("输入加载完成: %d个文件, %d个仓库达到阈值(stars>=%d)",
		len(s.paths), len(repos), starThreshold)
	return repos, nil
}

// loadInputFile 加载并解析单个输入文件
func loadInputFile(path string) (*models.InputData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取输入文件失败 %s: %w", path, err)
	}

	var data models.InputData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("解析输入文件失败 %s: %w", path, err)
	}
	return &data, nil
}
